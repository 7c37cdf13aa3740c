package template_test

import (
	"testing"

	"github.com/dukex/courier/pkg/template"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	vars := map[string]string{
		"nome_paciente": "Alice",
		"data_consulta": "10/03/2026",
		"hora_consulta": "14:30",
	}

	tests := []struct {
		name     string
		input    string
		vars     map[string]string
		expected string
	}{
		{
			name:     "single variable",
			input:    "Olá {nome_paciente}!",
			vars:     vars,
			expected: "Olá Alice!",
		},
		{
			name:     "repeated and multiple variables",
			input:    "{nome_paciente}, consulta em {data_consulta} às {hora_consulta}. Até logo, {nome_paciente}.",
			vars:     vars,
			expected: "Alice, consulta em 10/03/2026 às 14:30. Até logo, Alice.",
		},
		{
			name:     "unknown variable is kept",
			input:    "Retorno em {data_retorno}",
			vars:     vars,
			expected: "Retorno em {data_retorno}",
		},
		{
			name:     "no variables",
			input:    "Bom dia {nome_paciente}",
			vars:     nil,
			expected: "Bom dia {nome_paciente}",
		},
		{
			name:     "braces that are not placeholders",
			input:    `{"json": true} { spaced }`,
			vars:     vars,
			expected: `{"json": true} { spaced }`,
		},
		{
			name:     "empty input",
			input:    "",
			vars:     vars,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, template.Render(tt.input, tt.vars))
		})
	}
}

func TestPlaceholdersAndMissing(t *testing.T) {
	input := "{idade} {nome_paciente} {idade} {telefone}"

	assert.Equal(t, []string{"idade", "nome_paciente", "telefone"}, template.Placeholders(input))
	assert.Equal(t, []string{"telefone"}, template.Missing(input, map[string]string{"idade": "3 meses", "nome_paciente": "Bia"}))
	assert.Empty(t, template.Missing("sem variáveis", nil))
}
