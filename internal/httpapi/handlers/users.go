package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/auth"
	"github.com/suPer8Hu/testerhub/internal/common"
	"github.com/suPer8Hu/testerhub/internal/profile"
)

type createProfileReq struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Role      string   `json:"role"`
	AvatarURL *string  `json:"avatar_url"`
	Bio       string   `json:"bio"`
	Skills    []string `json:"skills"`
	Links     []string `json:"links"`
}

func (h *Handler) CreateProfile(c *gin.Context) {
	var req createProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.Profiles.Register(c.Request.Context(), profile.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		Role:      profile.Role(req.Role),
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
		Skills:    req.Skills,
		Links:     req.Links,
	})
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrUsernameTaken):
			common.Fail(c, http.StatusConflict, 40901, "username already taken")
		case errors.Is(err, profile.ErrInvalidInput):
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		default:
			jww.ERROR.Printf("[CreateProfile] register failed username=%s err=%v", req.Username, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to create profile")
		}
		return
	}

	token, err := auth.SignJWT(p.UID, string(p.Role), h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"uid":      p.UID,
		"username": p.Username,
		"role":     p.Role,
		"token":    token,
	})
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.Profiles.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, profile.ErrInvalidCredentials) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid username or password")
			return
		}
		jww.ERROR.Printf("[Login] authenticate failed username=%s err=%v", req.Username, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	token, err := auth.SignJWT(p.UID, string(p.Role), h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"uid": p.UID, "token": token})
}

// GetProfile is public: it returns the display identity of any uid, with
// the synthesized fallback for unknown ids.
func (h *Handler) GetProfile(c *gin.Context) {
	uid := c.Param("uid")
	id := h.Profiles.Lookup().Resolve(c.Request.Context(), uid)
	common.OK(c, gin.H{"identity": id})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := h.Profiles.Get(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "profile not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"profile": p})
}

type updateProfileReq struct {
	AvatarURL *string   `json:"avatar_url"`
	Bio       *string   `json:"bio"`
	Skills    *[]string `json:"skills"`
	Links     *[]string `json:"links"`
}

func (h *Handler) UpdateMe(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.Profiles.UpdateProfile(c.Request.Context(), uid, profile.UpdateInput{
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
		Skills:    req.Skills,
		Links:     req.Links,
	})
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "profile not found")
			return
		}
		jww.ERROR.Printf("[UpdateMe] update failed uid=%s err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"profile": p})
}
