package formpack

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
	"github.com/lk2023060901/formpack-go/pkg/util/typeutil"
)

func TestProtocolNewToken(t *testing.T) {
	p := DefaultProtocol()
	token := p.NewToken()

	assert.True(t, strings.HasPrefix(token, DefaultTokenPrefix))
	assert.Len(t, token, len(DefaultTokenPrefix)+36)

	id, ok := p.ParseToken(token)
	require.True(t, ok)
	assert.Equal(t, uuid.Version(4), id.Version())
}

func TestProtocolTokenUniqueness(t *testing.T) {
	p := DefaultProtocol()
	seen := typeutil.NewSet[string]()
	for i := 0; i < 100000; i++ {
		require.True(t, seen.TryInsert(p.NewToken()), "duplicate token after %d draws", i)
	}
}

func TestProtocolParseToken(t *testing.T) {
	p := DefaultProtocol()
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"v4", DefaultTokenPrefix + "0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e", true},
		{"v1", DefaultTokenPrefix + "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"nil uuid", DefaultTokenPrefix + "00000000-0000-0000-0000-000000000000", true},
		{"upper case", DefaultTokenPrefix + "0B6A8C1E-6F0A-4C4E-9A55-1F1D2B3C4D5E", true},
		{"no prefix", "0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e", false},
		{"prefix only", DefaultTokenPrefix, false},
		{"bad suffix", DefaultTokenPrefix + "not-a-uuid", false},
		{"version 0", DefaultTokenPrefix + "0b6a8c1e-6f0a-0c4e-9a55-1f1d2b3c4d5e", false},
		{"version 7", DefaultTokenPrefix + "0b6a8c1e-6f0a-7c4e-9a55-1f1d2b3c4d5e", false},
		{"ncs variant", DefaultTokenPrefix + "0b6a8c1e-6f0a-4c4e-1a55-1f1d2b3c4d5e", false},
		{"urn form", DefaultTokenPrefix + "urn:uuid:0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e", false},
		{"braces", DefaultTokenPrefix + "{0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e}", false},
		{"no hyphens", DefaultTokenPrefix + "0b6a8c1e6f0a4c4e9a551f1d2b3c4d5e", false},
		{"trailing data", DefaultTokenPrefix + "0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e.png", false},
		{"other prefix", "__file_0b6a8c1e-6f0a-4c4e-9a55-1f1d2b3c4d5e", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok := p.ParseToken(c.in)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.ok, p.IsToken(c.in))
		})
	}
}

func TestProtocolValidate(t *testing.T) {
	assert.NoError(t, DefaultProtocol().Validate())
	assert.NoError(t, Protocol{JSONField: "payload", TokenPrefix: "att:"}.Validate())

	assert.ErrorIs(t, Protocol{TokenPrefix: "x"}.Validate(), merr.ErrParameterInvalid)
	assert.ErrorIs(t, Protocol{JSONField: "x"}.Validate(), merr.ErrParameterInvalid)
	assert.ErrorIs(t, Protocol{JSONField: "x", TokenPrefix: uuid.NewString()}.Validate(), merr.ErrParameterInvalid)

	shaped := Protocol{JSONField: "f_" + uuid.NewString(), TokenPrefix: "f_"}
	assert.ErrorIs(t, shaped.Validate(), merr.ErrParameterInvalid)
}
