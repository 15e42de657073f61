package blob

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/picklo/errs"
)

func TestFSStore_UploadOpen(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs(), "http://localhost:8080/blobs/")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "room/hand/p1-1-0.jpg", []byte("jpeg"), "image/jpeg"))

	rc, err := s.Open("room/hand/p1-1-0.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	assert.Equal(t, "http://localhost:8080/blobs/room/hand/p1-1-0.jpg", s.PublicURL("room/hand/p1-1-0.jpg"))
}

func TestFSStore_RejectsBadKeys(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs(), "")
	err := s.Upload(context.Background(), "../etc/passwd", []byte("x"), "")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = s.Open("nope.jpg")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestFSStore_Delete(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFSStore(fs, "")
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "room/a.jpg", []byte("x"), "image/jpeg"))

	require.NoError(t, s.Delete(ctx, "room/a.jpg"))
	_, err := s.Open("room/a.jpg")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	// 再次删除不报错
	assert.NoError(t, s.Delete(ctx, "room/a.jpg"))
}
