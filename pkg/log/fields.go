package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameToken     = "token"
	FieldNamePart      = "part"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldToken 返回一个包含附件令牌的 zap 字段。
func FieldToken(token string) zap.Field {
	return zap.String(FieldNameToken, token)
}

// FieldPart 返回一个包含 multipart 分段名的 zap 字段。
func FieldPart(name string) zap.Field {
	return zap.String(FieldNamePart, name)
}
