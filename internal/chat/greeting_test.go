package chat

import "testing"

func TestSanitizeGreeting(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"pseudo array", `{"Hola","¿Cómo puedo ayudarte?"}`, "Hola, ¿Cómo puedo ayudarte?"},
		{"json array", `["Hi there!", "Ask me anything."]`, "Hi there!, Ask me anything."},
		{"single quoted", `"Welcome back"`, "Welcome back"},
		{"unquoted braces", `{Hello,How can I help}`, "Hello, How can I help"},
		{"plain prose", "Hello, how can I help you today?", "Hello, how can I help you today?"},
		{"plain prose whitespace", "  Hello   there  ", "Hello there"},
		{"escaped quotes", `{"Say \"hi\"","Bye"}`, "Say hi, Bye"},
		{"empty fragments", `{"", "Hola", ""}`, "Hola"},
		{"bare then quoted", `{Hola,"¿Cómo puedo ayudarte?"}`, "Hola, ¿Cómo puedo ayudarte?"},
		{"quoted then bare", `{"Hola amigo",Bienvenido}`, "Hola amigo, Bienvenido"},
		{"comma inside quotes", `{"Hola, amigo",Bienvenido}`, "Hola, amigo, Bienvenido"},
		{"empty", "", ""},
		{"only artifacts", `{""}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeGreeting(tt.input); got != tt.want {
				t.Fatalf("SanitizeGreeting(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
