package formpack

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/metrics"
	"github.com/lk2023060901/formpack-go/pkg/util/typeutil"
)

// Packer 把值图编码为 Envelope，可以被多个协程并发使用。
type Packer struct {
	log.Binder

	protocol   Protocol
	capability Capability
}

// PackerOption 为 Packer 的可选配置项。
type PackerOption func(*Packer)

// WithPackerProtocol 设置协议常量。
func WithPackerProtocol(p Protocol) PackerOption {
	return func(packer *Packer) {
		packer.protocol = p
	}
}

// WithCapability 设置二进制叶子的识别方式，nil 表示使用 DefaultCapability。
func WithCapability(c Capability) PackerOption {
	return func(packer *Packer) {
		if c != nil {
			packer.capability = c
		}
	}
}

// NewPacker 创建 Packer，协议常量非法时返回 merr.ErrParameterInvalid。
func NewPacker(opts ...PackerOption) (*Packer, error) {
	p := &Packer{
		protocol:   DefaultProtocol(),
		capability: DefaultCapability,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.protocol.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Protocol 返回 Packer 使用的协议常量。
func (p *Packer) Protocol() Protocol {
	return p.protocol
}

// Pack 深度优先遍历 graph，把每个二进制叶子替换为新令牌，
// 返回 JSON 文本与按先序遍历顺序排列的附件分段。
func (p *Packer) Pack(graph any) (*Envelope, error) {
	env, err := p.pack(graph)
	if err != nil {
		metrics.PackTotal.WithLabelValues(metrics.FailLabel).Inc()
		p.Logger().Warn("pack failed", zap.Error(err))
		return nil, err
	}
	metrics.PackTotal.WithLabelValues(metrics.SuccessLabel).Inc()
	metrics.PackPartsTotal.Add(float64(len(env.Parts)))
	return env, nil
}

func (p *Packer) pack(graph any) (*Envelope, error) {
	root, err := Walk(graph, p.capability)
	if err != nil {
		return nil, err
	}

	t := &tokenizer{
		protocol: p.protocol,
		used:     typeutil.NewSet[string](),
	}
	root = t.replace(root)

	data, err := root.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return NewEnvelope(p.protocol, data, t.parts), nil
}

// tokenizer 先序遍历值树，为每个二进制叶子分配一个本次调用内唯一的令牌。
type tokenizer struct {
	protocol Protocol
	used     typeutil.Set[string]
	parts    []BinaryPart
}

func (t *tokenizer) replace(v Value) Value {
	switch v.Kind() {
	case KindBinary:
		token := t.protocol.NewToken()
		for !t.used.TryInsert(token) {
			token = t.protocol.NewToken()
		}
		t.parts = append(t.parts, BinaryPart{Token: token, Leaf: v.Leaf()})
		return String(token)
	case KindSequence:
		items := make([]Value, len(v.Items()))
		for i, item := range v.Items() {
			items[i] = t.replace(item)
		}
		return Sequence(items...)
	case KindMapping:
		members := make([]Member, len(v.Members()))
		for i, m := range v.Members() {
			members[i] = Member{Key: m.Key, Value: t.replace(m.Value)}
		}
		return Mapping(members...)
	default:
		return v
	}
}

var defaultPacker = &Packer{
	protocol:   DefaultProtocol(),
	capability: DefaultCapability,
}

// Pack 使用默认协议与 DefaultCapability 编码 graph。
func Pack(graph any) (*Envelope, error) {
	return defaultPacker.Pack(graph)
}
