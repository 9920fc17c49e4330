// Package application contém os casos de uso (regras de aplicação) do rate limit:
// classificação da requisição em chave + política e a decisão allow/deny.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key, policy) retorna uma Decision (allow/deny + retry-after).
package application
