package formdata

import (
	"io"
	"time"

	"github.com/spf13/afero"
)

// File 描述一个已暂存到文件系统的上传文件。
type File struct {
	// Size 为文件字节数。
	Size int64 `json:"size"`
	// Path 为暂存文件在 Fs 上的路径。
	Path string `json:"path"`
	// Name 为客户端提供的原始文件名。
	Name string `json:"name"`
	// Type 为客户端声明的 Content-Type。
	Type string `json:"type"`
	// LastModified 为暂存完成的时间。
	LastModified time.Time `json:"mtime"`
	// Hash 为十六进制摘要，未开启摘要时为空。
	Hash string `json:"hash,omitempty"`

	fs afero.Fs
}

// Filename 返回原始文件名。
func (f *File) Filename() string {
	return f.Name
}

// ContentType 返回客户端声明的类型。
func (f *File) ContentType() string {
	return f.Type
}

// Open 打开暂存文件用于读取。
func (f *File) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.Path)
}

// Remove 删除暂存文件，文件不存在时不报错。
func (f *File) Remove() error {
	if f == nil || f.fs == nil {
		return nil
	}
	err := f.fs.Remove(f.Path)
	if err != nil {
		if exists, _ := afero.Exists(f.fs, f.Path); !exists {
			return nil
		}
	}
	return err
}
