package token

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tok  ConnectionToken
	}{
		{
			name: "файл с паролем",
			tok:  ConnectionToken{Host: "192.168.1.42", Port: 9001, FileName: "report.pdf", Password: "secret", IsText: false},
		},
		{
			name: "файл без пароля",
			tok:  ConnectionToken{Host: "10.0.0.7", Port: 8085, FileName: "photo.jpg"},
		},
		{
			name: "текст",
			tok:  ConnectionToken{Host: "172.16.5.5", Port: 4000, FileName: "encrypted-message.txt", IsText: true},
		},
		{
			name: "loopback",
			tok:  ConnectionToken{Host: "127.0.0.1", Port: 65535},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.tok)
			if err != nil {
				t.Fatalf("Encode: неожиданная ошибка: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: неожиданная ошибка: %v", err)
			}

			if *decoded != tt.tok {
				t.Errorf("round-trip: хотели %+v, получили %+v", tt.tok, *decoded)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"пустая строка", ""},
		{"не base64", "это не токен!!!"},
		{"base64 без JSON", base64.RawURLEncoding.EncodeToString([]byte("garbage bytes here"))},
		{"JSON без host", base64.RawURLEncoding.EncodeToString([]byte(`{"port":9001}`))},
		{"JSON без порта", base64.RawURLEncoding.EncodeToString([]byte(`{"host":"192.168.1.1"}`))},
		{"порт вне диапазона", base64.RawURLEncoding.EncodeToString([]byte(`{"host":"192.168.1.1","port":99999}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Decode(tt.input)
			if !errors.Is(err, ErrMalformedToken) {
				t.Errorf("хотели ErrMalformedToken, получили %v", err)
			}
			if tok != nil {
				t.Errorf("при ошибке токен должен быть nil, получили %+v", tok)
			}
		})
	}
}

func TestDecode_NonPrivateHost(t *testing.T) {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(`{"host":"8.8.8.8","port":9001}`))

	tok, err := Decode(encoded)
	if !errors.Is(err, ErrNonPrivateHost) {
		t.Errorf("хотели ErrNonPrivateHost, получили %v", err)
	}
	if tok != nil {
		t.Errorf("при ошибке токен должен быть nil, получили %+v", tok)
	}
}

func TestDecode_PaddedBase64(t *testing.T) {
	// Старые клиенты кодируют с padding — должны приниматься
	padded := base64.URLEncoding.EncodeToString([]byte(`{"host":"192.168.0.2","port":9001}`))

	tok, err := Decode(padded)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if tok.Host != "192.168.0.2" || tok.Port != 9001 {
		t.Errorf("некорректный результат декодирования: %+v", tok)
	}
}

func TestNewAccessCode_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewAccessCode()
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("длина кода: хотели 8, получили %d (%q)", len(code), code)
		}
		if seen[code] {
			t.Fatalf("повтор кода доступа: %q", code)
		}
		seen[code] = true
	}
}

func TestNewOwnerToken_Format(t *testing.T) {
	tok, err := NewOwnerToken()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(tok) != 43 {
		t.Errorf("длина токена владельца: хотели 43, получили %d", len(tok))
	}
}
