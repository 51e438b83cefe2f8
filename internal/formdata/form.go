package formdata

import (
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// Form 是一次解析的结果：普通字段与文件分别按字段名索引。
// 同名字段只保留最后一次出现的值。
type Form struct {
	Fields map[string]string `json:"fields"`
	Files  map[string]*File  `json:"files"`
}

func newForm() *Form {
	return &Form{
		Fields: make(map[string]string),
		Files:  make(map[string]*File),
	}
}

// RemoveAll 删除本次解析暂存的所有文件。
func (f *Form) RemoveAll() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, file := range f.Files {
		if err := file.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	return merr.Combine(errs...)
}
