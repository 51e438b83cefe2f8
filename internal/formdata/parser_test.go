package formdata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"regexp"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const uploadDir = "/uploads"

type testPart struct {
	name     string
	filename string
	ctype    string
	data     []byte
	file     bool
}

func field(name, value string) testPart {
	return testPart{name: name, data: []byte(value)}
}

func file(name, filename, ctype string, data []byte) testPart {
	return testPart{name: name, filename: filename, ctype: ctype, data: data, file: true}
}

func buildBody(t *testing.T, parts ...testPart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.file {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.name, p.filename))
			if p.ctype != "" {
				h.Set("Content-Type", p.ctype)
			}
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.name))
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

type ParserSuite struct {
	suite.Suite
	fs     afero.Fs
	logger *log.MLogger
}

func (s *ParserSuite) SetupSuite() {
	logger, _, err := log.InitTestLogger(s.T(), &log.Config{Level: "debug"})
	s.Require().NoError(err)
	s.logger = &log.MLogger{Logger: logger}
}

func (s *ParserSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
}

func (s *ParserSuite) newParser(opts ...Option) *Parser {
	opts = append([]Option{WithFs(s.fs), WithUploadDir(uploadDir), WithLogger(s.logger)}, opts...)
	p, err := NewParser(opts...)
	s.Require().NoError(err)
	return p
}

func (s *ParserSuite) stagedCount() int {
	infos, err := afero.ReadDir(s.fs, uploadDir)
	if err != nil {
		return 0
	}
	return len(infos)
}

func (s *ParserSuite) TestFieldsAndFiles() {
	body, ctype := buildBody(s.T(),
		field("title", "hello"),
		file("avatar", "me.png", "image/png", []byte("PNGDATA")),
	)

	form, err := s.newParser(WithKeepExtensions(true), WithHash(HashSHA1)).Parse(context.Background(), body, ctype)
	s.Require().NoError(err)

	s.Equal(map[string]string{"title": "hello"}, form.Fields)
	s.Require().Contains(form.Files, "avatar")

	f := form.Files["avatar"]
	s.Equal("me.png", f.Name)
	s.Equal("image/png", f.Type)
	s.Equal(int64(7), f.Size)
	s.Equal("me.png", f.Filename())
	s.Equal("image/png", f.ContentType())
	s.Regexp(regexp.MustCompile(`^/uploads/upload_[0-9a-f]{32}\.png$`), f.Path)
	s.False(f.LastModified.IsZero())
	s.Len(f.Hash, 40)

	rc, err := f.Open()
	s.Require().NoError(err)
	content, err := io.ReadAll(rc)
	s.Require().NoError(rc.Close())
	s.Require().NoError(err)
	s.Equal("PNGDATA", string(content))

	s.NoError(form.RemoveAll())
	s.Equal(0, s.stagedCount())
}

func (s *ParserSuite) TestHashAlgorithms() {
	cases := map[string]string{
		HashMD5:    "5d41402abc4b2a76b9719d911017c592",
		HashSHA1:   "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		HashSHA256: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
	}
	for algo, want := range cases {
		body, ctype := buildBody(s.T(), file("f", "a.txt", "text/plain", []byte("hello")))
		form, err := s.newParser(WithHash(algo)).Parse(context.Background(), body, ctype)
		s.Require().NoError(err)
		s.Equal(want, form.Files["f"].Hash, algo)
	}

	body, ctype := buildBody(s.T(), file("f", "a.txt", "text/plain", []byte("hello")))
	form, err := s.newParser(WithHash(HashBLAKE3)).Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Len(form.Files["f"].Hash, 64)

	body, ctype = buildBody(s.T(), file("f", "a.txt", "", []byte("hello")))
	form, err = s.newParser().Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Empty(form.Files["f"].Hash)
	s.Equal(defaultFileType, form.Files["f"].Type)
	s.Regexp(regexp.MustCompile(`^/uploads/upload_[0-9a-f]{32}$`), form.Files["f"].Path)
}

func (s *ParserSuite) TestMaxFileSizeIsCumulative() {
	body, ctype := buildBody(s.T(),
		file("a", "a.bin", "", bytes.Repeat([]byte("x"), 6)),
		file("b", "b.bin", "", bytes.Repeat([]byte("y"), 6)),
	)

	form, err := s.newParser(WithMaxFileSize(10)).Parse(context.Background(), body, ctype)
	s.Nil(form)
	s.ErrorIs(err, merr.ErrSizeLimit)
	s.Equal(0, s.stagedCount())
}

func (s *ParserSuite) TestMaxFieldsSize() {
	body, ctype := buildBody(s.T(),
		field("a", "12345"),
		field("b", "123456"),
	)

	_, err := s.newParser(WithMaxFieldsSize(10)).Parse(context.Background(), body, ctype)
	s.ErrorIs(err, merr.ErrSizeLimit)

	body, ctype = buildBody(s.T(), field("a", "12345"), field("b", "12345"))
	form, err := s.newParser(WithMaxFieldsSize(10)).Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Len(form.Fields, 2)
}

func (s *ParserSuite) TestDuplicateNamesLastWins() {
	body, ctype := buildBody(s.T(),
		field("k", "first"),
		field("k", "second"),
		file("f", "one.txt", "", []byte("1")),
		file("f", "two.txt", "", []byte("22")),
	)

	form, err := s.newParser().Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Equal("second", form.Fields["k"])
	s.Equal("two.txt", form.Files["f"].Name)
	s.Equal(1, s.stagedCount())
}

func (s *ParserSuite) TestEmptyFilenameSkipped() {
	body, ctype := buildBody(s.T(), file("f", "", "", nil), field("x", "y"))

	form, err := s.newParser().Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Empty(form.Files)
	s.Equal("y", form.Fields["x"])
}

func (s *ParserSuite) TestURLEncoded() {
	body := strings.NewReader("a=1&b=x+y&a=2")

	form, err := s.newParser().Parse(context.Background(), body, "application/x-www-form-urlencoded; charset=utf-8")
	s.Require().NoError(err)
	s.Equal(map[string]string{"a": "2", "b": "x y"}, form.Fields)
	s.Empty(form.Files)

	_, err = s.newParser(WithMaxFieldsSize(4)).Parse(context.Background(), strings.NewReader("a=12345"), "application/x-www-form-urlencoded")
	s.ErrorIs(err, merr.ErrSizeLimit)
}

func (s *ParserSuite) TestEncoding() {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String("你好")
	s.Require().NoError(err)
	body, ctype := buildBody(s.T(), field("greeting", gbk))

	form, err := s.newParser(WithEncoding("gbk")).Parse(context.Background(), body, ctype)
	s.Require().NoError(err)
	s.Equal("你好", form.Fields["greeting"])
}

func (s *ParserSuite) TestMalformed() {
	_, err := s.newParser().Parse(context.Background(), strings.NewReader("{}"), "application/json")
	s.ErrorIs(err, merr.ErrTransportParse)

	_, err = s.newParser().Parse(context.Background(), strings.NewReader(""), "multipart/form-data")
	s.ErrorIs(err, merr.ErrTransportParse)

	_, err = s.newParser().Parse(context.Background(), strings.NewReader(""), ";;;")
	s.ErrorIs(err, merr.ErrTransportParse)
}

func (s *ParserSuite) TestTruncatedBodyRemovesStagedFiles() {
	body, ctype := buildBody(s.T(),
		file("a", "a.bin", "", bytes.Repeat([]byte("a"), 64)),
		file("b", "b.bin", "", bytes.Repeat([]byte("b"), 4096)),
	)
	truncated := body.Bytes()[:body.Len()-2048]

	form, err := s.newParser().Parse(context.Background(), bytes.NewReader(truncated), ctype)
	s.Nil(form)
	s.ErrorIs(err, merr.ErrTransportParse)
	s.Equal(0, s.stagedCount())
}

func (s *ParserSuite) TestCanceled() {
	body, ctype := buildBody(s.T(), file("a", "a.bin", "", []byte("abc")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.newParser().Parse(ctx, body, ctype)
	s.ErrorIs(err, merr.ErrTransportParse)
	s.True(errors.Is(err, context.Canceled))
	s.Equal(0, s.stagedCount())
}

func TestParser(t *testing.T) {
	suite.Run(t, new(ParserSuite))
}

func TestNewParserValidation(t *testing.T) {
	_, err := NewParser(WithHash("crc32"))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = NewParser(WithEncoding("klingon"))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	p, err := NewParser(WithHash("SHA256"))
	require.NoError(t, err)
	cfg := p.Config()
	assert.Equal(t, HashSHA256, cfg.Hash)
	assert.Equal(t, DefaultMaxFileSize, cfg.MaxFileSize)
	assert.Equal(t, DefaultMaxFieldsSize, cfg.MaxFieldsSize)
	assert.NotEmpty(t, cfg.UploadDir)
}

func TestSanitizeExt(t *testing.T) {
	cases := map[string]string{
		".png":     ".png",
		".tar":     ".tar",
		".JPG?x=1": ".JPG",
		".":        "",
		"":         "",
		".mp4 (1)": ".mp4",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeExt(in), in)
	}
}
