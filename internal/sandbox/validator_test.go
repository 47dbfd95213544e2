package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"pandas read":       `meu_df = pd.read_csv('orders.csv'); resultado = len(meu_df)`,
		"node fs":           `const s = fs.readFileSync('/etc/passwd')`,
		"python open":       `resultado = open('/etc/passwd').read()`,
		"require":           `const fs = require('fs')`,
		"es import":         `import fs from "fs"`,
		"dunder import":     `__import__('os').system('ls')`,
		"process":           `resultado = process.env`,
		"os":                `os.system("rm -rf /")`,
		"subprocess":        `subprocess.run(["ls"])`,
		"fetch":             `fetch("http://example.com")`,
		"eval":              `eval("1+1")`,
		"function ctor":     `Function("return this")()`,
		"constructor chain": `resultado = (()=>{}).constructor("return this")()`,
		"globalThis":        `resultado = globalThis`,
		"deno":              `Deno.readTextFile("x")`,
	}
	for name, code := range cases {
		ok, reason := Validate(code)
		assert.False(t, ok, name)
		assert.NotEqual(t, "ok", reason, name)
		assert.NotEmpty(t, reason, name)
	}
}

func TestValidate_Accepts(t *testing.T) {
	for _, code := range []string{
		`resultado = df['amount'].sum()`,
		`resultado = len(df)`,
		`const top = df.sort('amount', true).head(5); resultado = top`,
		`resultado = df.filter(r => r.region === 'north').len()`,
		`resultado = plt.bar(df.groupby('region').sum('amount')).title('Sales')`,
		`const positions = df['pos.x']; resultado = positions.mean()`,
		`resultado = "important reopened"`,
	} {
		ok, reason := Validate(code)
		assert.True(t, ok, code)
		assert.Equal(t, "ok", reason)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Reason: "imports are not allowed"}
	assert.Equal(t, "code rejected: imports are not allowed", err.Error())
}
