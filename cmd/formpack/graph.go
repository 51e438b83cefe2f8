package main

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// buildGraph 读取 JSON 文档，并把 files 中的每一项 key=path 作为附件放到 key 指定的位置。
// key 为以 "." 分隔的路径，数组下标使用十进制数字，等于数组长度时追加。
func buildGraph(fs afero.Fs, jsonPath string, files []string) (any, error) {
	var root any
	if jsonPath != "" {
		data, err := afero.ReadFile(fs, jsonPath)
		if err != nil {
			return nil, fmt.Errorf("read json document: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&root); err != nil {
			return nil, merr.WrapErrJSONParse(err, "decode "+jsonPath)
		}
	}

	for _, arg := range files {
		key, path, ok := strings.Cut(arg, "=")
		if !ok || key == "" || path == "" {
			return nil, merr.WrapErrParameterInvalid("key=path", arg, "invalid --file")
		}
		leaf, err := formpack.FileFromPath(fs, path)
		if err != nil {
			return nil, err
		}
		root, err = setPath(root, strings.Split(key, "."), leaf)
		if err != nil {
			return nil, merr.WrapErrParameterInvalidMsg("cannot attach %s at %q: %v", path, key, err)
		}
	}
	return root, nil
}

func setPath(node any, segs []string, leaf any) (any, error) {
	if len(segs) == 0 {
		return leaf, nil
	}
	seg := segs[0]
	switch n := node.(type) {
	case nil:
		child, err := setPath(nil, segs[1:], leaf)
		if err != nil {
			return nil, err
		}
		return map[string]any{seg: child}, nil
	case map[string]any:
		child, err := setPath(n[seg], segs[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[seg] = child
		return n, nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i > len(n) {
			return nil, fmt.Errorf("index %q out of range [0, %d]", seg, len(n))
		}
		if i == len(n) {
			n = append(n, nil)
		}
		child, err := setPath(n[i], segs[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[i] = child
		return n, nil
	default:
		return nil, fmt.Errorf("%q is a %T", seg, node)
	}
}
