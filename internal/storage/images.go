package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) InsertImage(ctx context.Context, img GeneratedImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = s.now()
	}
	q := s.sql.Insert("generated_images").
		Columns("image_id", "chat_session_id", "name", "mime_type", "data", "created_at").
		Values(img.ImageID, img.ChatSessionID, img.Name, img.MIMEType, img.Data, img.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert image query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return classifyInsert("insert image", err)
}

func (s *Store) GetImage(ctx context.Context, imageID string) (GeneratedImage, error) {
	q := s.sql.Select("image_id", "chat_session_id", "name", "mime_type", "data", "created_at").
		From("generated_images").
		Where(sq.Eq{"image_id": imageID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("build get image query: %w", err)
	}

	var img GeneratedImage
	var sessionID sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&img.ImageID, &sessionID, &img.Name, &img.MIMEType, &img.Data, &img.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GeneratedImage{}, ErrNotFound
		}
		return GeneratedImage{}, fmt.Errorf("get image: %w", err)
	}
	if sessionID.Valid {
		img.ChatSessionID = &sessionID.String
	}
	return img, nil
}
