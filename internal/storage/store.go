// Package storage persists room content in Postgres. It is the local
// alternative to the platform persistence service, selected with
// STORAGE_MODE=db.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/scene"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// RoomContent is the persisted document of a room.
type RoomContent struct {
	RoomID    string `gorm:"primaryKey"`
	Content   []byte
	SavedAt   time.Time
	CreatedAt time.Time
}

type ConnectOptions struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	Environment string
}

// Connect opens the database connection and migrates the schema.
func Connect(opts ConnectOptions) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		opts.Host,
		opts.User,
		opts.Password,
		opts.Name,
		opts.Port,
	)

	level := logger.Info
	if opts.Environment == "production" {
		level = logger.Error
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second, // Slow SQL threshold
			LogLevel:      level,       // Log level
			Colorful:      true,        // Enable color
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("error connecting to db: %w", err)
	}

	if err := db.AutoMigrate(&RoomContent{}); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	log.Println("Success connecting to db")
	return db, nil
}

// Close closes the underlying connection.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("failed to access db handle: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("failed to close db: %v", err)
	}
}

// Store reads and writes room content records.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Fetch loads the persisted content of a room. Returns
// integration.ErrNotFound when the room was never saved.
func (s *Store) Fetch(ctx context.Context, roomID string) (scene.Content, error) {
	var record RoomContent
	err := s.db.WithContext(ctx).First(&record, "room_id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return scene.Content{}, integration.ErrNotFound
		}
		return scene.Content{}, err
	}

	var content scene.Content
	if err := json.Unmarshal(record.Content, &content); err != nil {
		return scene.Content{}, fmt.Errorf("corrupt stored content for room %s: %w", roomID, err)
	}
	return content, nil
}

// Save upserts the content of a room.
func (s *Store) Save(ctx context.Context, roomID string, content scene.Content) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}

	record := RoomContent{
		RoomID:  roomID,
		Content: raw,
		SavedAt: time.Now().UTC(), // Use UTC for consistency
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "saved_at"}),
	}).Create(&record).Error
}
