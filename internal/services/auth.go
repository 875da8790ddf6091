package services

import (
	"errors"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/utils"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongPassword      = errors.New("incorrect old password")
	ErrPasswordUnchanged  = errors.New("new password must differ from the old one")
)

const defaultTokenHours = 24

// unknownUserHash is compared against when the username does not exist, so
// unknown and known accounts take the same bcrypt time to reject.
var unknownUserHash, _ = utils.HashPassword("unknown-user")

// AuthService signs dashboard users in. Moderation API clients use API keys
// instead.
type AuthService struct {
	db          *gorm.DB
	expireHours int
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	hours := jwtCfg.ExpireHour
	if hours <= 0 {
		hours = defaultTokenHours
	}
	return &AuthService{db: db, expireHours: hours}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

func (s *AuthService) Login(req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	err := s.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.CheckPassword(req.Password, unknownUserHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.expireHours)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(&user).UpdateColumn("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] Failed to record last login")
	}
	user.LastLogin = &now

	return &LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: now.Add(time.Duration(s.expireHours) * time.Hour),
	}, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=72"`
}

// ChangePassword replaces the user's password after checking the old one.
// Tokens already issued stay valid until they expire.
func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrWrongPassword
	}
	if req.NewPassword == req.OldPassword {
		return ErrPasswordUnchanged
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.Model(user).Update("password", hashed).Error
}
