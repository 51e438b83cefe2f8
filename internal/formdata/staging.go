package formdata

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/metrics"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const stagedNamePrefix = "upload_"

func newHasher(name string) hash.Hash {
	switch name {
	case HashMD5:
		return md5.New()
	case HashSHA1:
		return sha1.New()
	case HashSHA256:
		return sha256.New()
	case HashBLAKE3:
		return blake3.New()
	default:
		return nil
	}
}

// stagedName 生成暂存文件名：upload_<32 位十六进制>，keepExt 时追加原始扩展名。
func stagedName(original string, keepExt bool) string {
	id := uuid.New()
	name := stagedNamePrefix + hex.EncodeToString(id[:])
	if keepExt {
		name += sanitizeExt(filepath.Ext(original))
	}
	return name
}

// sanitizeExt 只保留扩展名开头的 "." 与紧随其后的字母数字部分。
func sanitizeExt(ext string) string {
	if !strings.HasPrefix(ext, ".") {
		return ""
	}
	end := 1
	for end < len(ext) {
		c := ext[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	if end == 1 {
		return ""
	}
	return ext[:end]
}

// trackingReader 记录来自数据源的读错误，用于区分解析错误与落盘错误。
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// stageFile 将 src 写入暂存目录，受本次请求剩余的文件字节预算约束。
func (s *parseState) stageFile(src io.Reader, field, filename, contentType string) (*File, error) {
	cfg := s.cfg
	if err := cfg.Fs.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, merr.WrapErrStaging(cfg.UploadDir, err, "create upload dir")
	}

	path := filepath.Join(cfg.UploadDir, stagedName(filename, cfg.KeepExtensions))
	out, err := cfg.Fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, merr.WrapErrStaging(path, err, "create staged file")
	}
	s.pending = path

	var w io.Writer = out
	h := newHasher(cfg.Hash)
	if h != nil {
		w = io.MultiWriter(out, h)
	}

	remaining := cfg.MaxFileSize - s.fileBytes
	tr := &trackingReader{r: io.LimitReader(src, remaining+1)}
	n, copyErr := io.Copy(w, tr)
	closeErr := out.Close()
	s.fileBytes += n

	switch {
	case tr.err != nil:
		return nil, s.transportErr(tr.err)
	case copyErr != nil:
		return nil, merr.WrapErrStaging(path, copyErr, "write staged file")
	case closeErr != nil:
		return nil, merr.WrapErrStaging(path, closeErr, "close staged file")
	case s.fileBytes > cfg.MaxFileSize:
		return nil, merr.WrapErrSizeLimit("file", s.fileBytes, cfg.MaxFileSize,
			"maxFileSize exceeded while receiving "+field)
	}

	file := &File{
		Size:         n,
		Path:         path,
		Name:         filename,
		Type:         contentType,
		LastModified: time.Now(),
		fs:           cfg.Fs,
	}
	if h != nil {
		file.Hash = hex.EncodeToString(h.Sum(nil))
	}
	s.pending = ""

	metrics.ReceivedBytesTotal.Add(float64(n))
	metrics.ReceivedFileSize.Observe(float64(n))
	s.logger.Debug("file staged",
		log.FieldPart(field),
		zap.String("path", path),
		zap.Int64("size", n))
	return file, nil
}
