package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrAudioSaveFailed - ошибка при сохранении аудиофайла.
var ErrAudioSaveFailed = errors.New("audio save failed")

// AudioRepository хранит единственный аудиофайл рассказчика.
type AudioRepository interface {
	// Save перезаписывает аудиофайл и возвращает его публичный путь.
	Save(ctx context.Context, audio []byte) (string, error)
	// Path возвращает абсолютный путь файла на диске.
	Path() (string, error)
}

type fileAudioRepository struct {
	dir        string
	fileName   string
	publicPath string
	logger     *zap.Logger
}

// NewFileAudioRepository создает хранилище в dir. Относительный dir считается от текущего
// каталога процесса в момент сохранения.
func NewFileAudioRepository(dir, fileName, publicPath string, logger *zap.Logger) AudioRepository {
	return &fileAudioRepository{
		dir:        dir,
		fileName:   fileName,
		publicPath: publicPath,
		logger:     logger,
	}
}

func (r *fileAudioRepository) Path() (string, error) {
	dir := r.dir
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}
	return filepath.Join(dir, r.fileName), nil
}

// Save пишет во временный файл рядом с целевым и переименовывает его поверх story.mp3:
// читатель видит либо старый файл, либо новый целиком.
func (r *fileAudioRepository) Save(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}

	filePath, err := r.Path()
	if err != nil {
		r.logger.Error("Failed to resolve audio path", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}
	log := r.logger.With(zap.String("path", filePath))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("Failed to create audio directory", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "."+r.fileName+".*.tmp")
	if err != nil {
		log.Error("Failed to create temp audio file", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(audio); err != nil {
		_ = tmp.Close()
		cleanup()
		log.Error("Failed to write audio file", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		log.Warn("Failed to set audio file permissions", zap.Error(err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		log.Error("Failed to close audio file", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		log.Error("Failed to replace audio file", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioSaveFailed, err)
	}

	log.Info("Audio saved to file", zap.Int("size_bytes", len(audio)))
	return r.publicPath, nil
}
