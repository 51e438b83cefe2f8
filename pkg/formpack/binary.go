package formpack

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const defaultContentType = "application/octet-stream"

// BinaryLeaf 是值树中的二进制附件。
type BinaryLeaf interface {
	// Filename 返回附件名，可以为空。
	Filename() string
	// ContentType 返回附件类型，可以为空。
	ContentType() string
	// Open 打开附件内容，每次调用返回一个新的读取器。
	Open() (io.ReadCloser, error)
}

// Capability 判断一个值是否为二进制叶子，并在是的时候取出它。
type Capability interface {
	Detect(v any) (BinaryLeaf, bool)
}

// CapabilityFunc 把普通函数适配为 Capability。
type CapabilityFunc func(v any) (BinaryLeaf, bool)

func (f CapabilityFunc) Detect(v any) (BinaryLeaf, bool) {
	return f(v)
}

// DefaultCapability 识别实现了 BinaryLeaf 的值（Blob、*FsFile、*formdata.File 等）
// 以及 *multipart.FileHeader。
var DefaultCapability Capability = CapabilityFunc(detectDefault)

func detectDefault(v any) (BinaryLeaf, bool) {
	switch t := v.(type) {
	case BinaryLeaf:
		return t, true
	case *multipart.FileHeader:
		return fileHeaderLeaf{fh: t}, true
	default:
		return nil, false
	}
}

// ChainCapability 依次尝试多个 Capability，返回第一个识别成功的结果。
func ChainCapability(caps ...Capability) Capability {
	return CapabilityFunc(func(v any) (BinaryLeaf, bool) {
		for _, c := range caps {
			if c == nil {
				continue
			}
			if leaf, ok := c.Detect(v); ok {
				return leaf, true
			}
		}
		return nil, false
	})
}

// Blob 是内存中的二进制附件。
type Blob struct {
	Name string
	Type string
	Data []byte
}

var _ BinaryLeaf = Blob{}

func NewBlob(name, contentType string, data []byte) Blob {
	return Blob{Name: name, Type: contentType, Data: data}
}

func (b Blob) Filename() string {
	return b.Name
}

func (b Blob) ContentType() string {
	return b.Type
}

func (b Blob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// FsFile 是 afero 文件系统上的一个文件附件。
type FsFile struct {
	Fs   afero.Fs
	Path string
	Name string
	Type string
}

var _ BinaryLeaf = (*FsFile)(nil)

// FileFromPath 根据路径构造附件，文件名取路径最后一段，类型按扩展名推断。
// 路径不存在或为目录时返回 merr.ErrParameterInvalid。
func FileFromPath(fs afero.Fs, path string) (*FsFile, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	st, err := fs.Stat(path)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("attachment %s: %v", path, err)
	}
	if st.IsDir() {
		return nil, merr.WrapErrParameterInvalidMsg("attachment %s is a directory", path)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = defaultContentType
	}
	return &FsFile{
		Fs:   fs,
		Path: path,
		Name: filepath.Base(path),
		Type: contentType,
	}, nil
}

func (f *FsFile) Filename() string {
	return f.Name
}

func (f *FsFile) ContentType() string {
	return f.Type
}

func (f *FsFile) Open() (io.ReadCloser, error) {
	return f.Fs.Open(f.Path)
}

type fileHeaderLeaf struct {
	fh *multipart.FileHeader
}

func (l fileHeaderLeaf) Filename() string {
	return l.fh.Filename
}

func (l fileHeaderLeaf) ContentType() string {
	return l.fh.Header.Get("Content-Type")
}

func (l fileHeaderLeaf) Open() (io.ReadCloser, error) {
	return l.fh.Open()
}
