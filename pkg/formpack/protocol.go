package formpack

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const (
	// DefaultJSONField 为承载 JSON 文本的保留字段名。
	DefaultJSONField = "__formpack_json"
	// DefaultTokenPrefix 为附件令牌的保留前缀。
	DefaultTokenPrefix = "__formpack_file_"

	uuidStringLen = 36
)

// Protocol 描述收发双方约定的线上常量。
type Protocol struct {
	JSONField   string `json:"json_field" mapstructure:"json-field"`
	TokenPrefix string `json:"token_prefix" mapstructure:"token-prefix"`
}

// DefaultProtocol 返回默认的协议常量。
func DefaultProtocol() Protocol {
	return Protocol{
		JSONField:   DefaultJSONField,
		TokenPrefix: DefaultTokenPrefix,
	}
}

func (p Protocol) orDefault() Protocol {
	if p.JSONField == "" && p.TokenPrefix == "" {
		return DefaultProtocol()
	}
	return p
}

// Validate 检查协议常量是否可用。
func (p Protocol) Validate() error {
	if p.JSONField == "" {
		return merr.WrapErrParameterInvalidMsg("json field name must not be empty")
	}
	if p.TokenPrefix == "" {
		return merr.WrapErrParameterInvalidMsg("token prefix must not be empty")
	}
	if _, err := uuid.Parse(p.TokenPrefix); err == nil {
		return merr.WrapErrParameterInvalidMsg("token prefix %q must not be a uuid", p.TokenPrefix)
	}
	if p.IsToken(p.JSONField) {
		return merr.WrapErrParameterInvalidMsg("json field %q must not be token shaped", p.JSONField)
	}
	return nil
}

// NewToken 生成一个新的令牌：前缀 + 随机 UUIDv4。
func (p Protocol) NewToken() string {
	return p.TokenPrefix + uuid.NewString()
}

// ParseToken 在 s 带有令牌前缀且剩余部分为规范格式 UUID 时返回该 UUID。
//
// 后缀必须是 36 个字符的连字符格式，RFC 4122 变体，版本 1 到 5；全零 UUID 也被接受。
func (p Protocol) ParseToken(s string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(s, p.TokenPrefix)
	if !ok || len(rest) != uuidStringLen {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	if id == uuid.Nil {
		return id, true
	}
	if id.Variant() != uuid.RFC4122 || id.Version() < 1 || id.Version() > 5 {
		return uuid.Nil, false
	}
	return id, true
}

// IsToken 判断 s 是否为合法令牌。
func (p Protocol) IsToken(s string) bool {
	_, ok := p.ParseToken(s)
	return ok
}
