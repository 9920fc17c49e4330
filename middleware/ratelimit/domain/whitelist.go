package domain

import "strings"

// Whitelist é o conjunto de clientes isentos de qualquer checagem.
// Carregado uma vez no startup e só lido depois disso.
type Whitelist map[string]struct{}

// ParseWhitelist lê uma lista separada por vírgula ("10.0.0.1, 10.0.0.2").
// Entradas vazias são ignoradas.
func ParseWhitelist(csv string) Whitelist {
	wl := Whitelist{}
	for _, part := range strings.Split(csv, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			wl[ip] = struct{}{}
		}
	}
	return wl
}

func (w Whitelist) Contains(client string) bool {
	_, ok := w[client]
	return ok
}
