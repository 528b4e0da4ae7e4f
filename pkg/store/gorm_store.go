package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"meetscribe/internal/util"
	"meetscribe/pkg/domain"
)

// GormStore implements Store using GORM + MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, configures the connection pool, and runs
// auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access pool: %w", err)
	}
	// Bounded pool; requests beyond the bound queue first-come-first-served.
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := db.AutoMigrate(&UserModel{}, &SessionModel{}, &ChatMessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) ready() error {
	if s == nil || s.db == nil {
		return ErrNotConnected
	}
	return nil
}

// SaveUser creates or replaces a user record.
func (s *GormStore) SaveUser(u domain.User) error {
	if err := s.ready(); err != nil {
		return err
	}
	model := userToModel(u)
	return s.db.Save(&model).Error
}

// HasUserEmail reports whether a user with the email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail fetches a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	if err := s.ready(); err != nil {
		return domain.User{}, false, err
	}
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID fetches a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	if err := s.ready(); err != nil {
		return domain.User{}, false, err
	}
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveSession persists a session as a single terminal write and returns the
// assigned ID.
func (s *GormStore) SaveSession(session domain.Session) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if session.ID == "" {
		session.ID = util.NewID()
	}
	model, err := sessionToModel(session)
	if err != nil {
		return "", err
	}
	if err := s.db.Create(&model).Error; err != nil {
		return "", err
	}
	return model.ID, nil
}

// GetSession retrieves a session by ID.
func (s *GormStore) GetSession(id string) (domain.Session, bool, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, false, err
	}
	var model SessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	session, err := sessionFromModel(model)
	if err != nil {
		return domain.Session{}, false, err
	}
	return session, true, nil
}

// ListSessionsByOwner returns an owner's sessions, newest recording first.
func (s *GormStore) ListSessionsByOwner(ownerID string) ([]domain.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var models []SessionModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("recorded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(models))
	for _, m := range models {
		session, err := sessionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, session)
	}
	return res, nil
}

// AppendChatMessage records one conversation turn. Rows are append-only.
func (s *GormStore) AppendChatMessage(msg domain.ChatMessage) error {
	if err := s.ready(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	model := chatMessageToModel(msg)
	return s.db.Create(&model).Error
}

// ListChatMessages returns the newest limit turns of a session's chat
// history in chronological order. The query walks backwards from the tail so
// a long conversation keeps its recent context, then the page is reversed.
func (s *GormStore) ListChatMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.Where("session_id = ?", sessionID).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []ChatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return chatMessagesFromNewestFirst(models), nil
}

// chatMessagesFromNewestFirst converts a newest-first page of rows into
// chronological order.
func chatMessagesFromNewestFirst(models []ChatMessageModel) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, len(models))
	for i, m := range models {
		msgs[len(models)-1-i] = chatMessageFromModel(m)
	}
	return msgs
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func sessionToModel(s domain.Session) (SessionModel, error) {
	visuals := s.VisualRefs
	if visuals == nil {
		visuals = []string{}
	}
	encoded, err := json.Marshal(visuals)
	if err != nil {
		return SessionModel{}, fmt.Errorf("encode visuals: %w", err)
	}
	model := SessionModel{
		ID:              s.ID,
		Title:           s.Title,
		RecordedAt:      s.RecordedAt,
		DurationSeconds: s.DurationSeconds,
		Transcript:      s.Transcript,
		Summary:         s.Summary,
		Classification:  string(s.Classification),
		Visuals:         datatypes.JSON(encoded),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.OwnerID != "" {
		owner := s.OwnerID
		model.OwnerID = &owner
	}
	return model, nil
}

func sessionFromModel(m SessionModel) (domain.Session, error) {
	session := domain.Session{
		ID:              m.ID,
		Title:           m.Title,
		RecordedAt:      m.RecordedAt,
		DurationSeconds: m.DurationSeconds,
		Transcript:      m.Transcript,
		Summary:         m.Summary,
		Classification:  domain.Category(m.Classification),
		VisualRefs:      []string{},
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.OwnerID != nil {
		session.OwnerID = *m.OwnerID
	}
	if len(m.Visuals) > 0 {
		if err := json.Unmarshal(m.Visuals, &session.VisualRefs); err != nil {
			return domain.Session{}, fmt.Errorf("decode visuals: %w", err)
		}
	}
	return session, nil
}

func chatMessageToModel(msg domain.ChatMessage) ChatMessageModel {
	model := ChatMessageModel{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if msg.OwnerID != "" {
		owner := msg.OwnerID
		model.OwnerID = &owner
	}
	if msg.SessionID != "" {
		session := msg.SessionID
		model.SessionID = &session
	}
	return model
}

func chatMessageFromModel(m ChatMessageModel) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        m.ID,
		Role:      domain.ChatRole(m.Role),
		Content:   m.Message,
		CreatedAt: m.CreatedAt,
	}
	if m.OwnerID != nil {
		msg.OwnerID = *m.OwnerID
	}
	if m.SessionID != nil {
		msg.SessionID = *m.SessionID
	}
	return msg
}
