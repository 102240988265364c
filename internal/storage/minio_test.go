package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestMinioLoadError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if err := loadError("k", missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("loadError(NoSuchKey) = %v, want ErrNotFound", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	err := loadError("k", denied)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("loadError(AccessDenied) = %v, want a non-NotFound error", err)
	}
	if minio.ToErrorResponse(errors.Unwrap(err)).Code != "AccessDenied" {
		t.Errorf("loadError lost the cause: %v", err)
	}
}

func TestMinioDeleteError(t *testing.T) {
	if err := deleteError("k", minio.ErrorResponse{Code: "NoSuchKey"}); err != nil {
		t.Errorf("deleteError(NoSuchKey) = %v, want nil", err)
	}
	if err := deleteError("k", minio.ErrorResponse{Code: "AccessDenied"}); err == nil {
		t.Error("deleteError(AccessDenied) = nil, want error")
	}
	if err := deleteError("k", errors.New("connection reset")); err == nil {
		t.Error("deleteError(network) = nil, want error")
	}
}

func TestMinioContentType(t *testing.T) {
	if got := contentType([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")); got != "audio/wav" {
		t.Errorf("contentType(wav) = %q", got)
	}
	if got := contentType([]byte("ID3")); got != "application/octet-stream" {
		t.Errorf("contentType(mp3) = %q", got)
	}
}
