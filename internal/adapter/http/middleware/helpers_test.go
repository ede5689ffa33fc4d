package middleware

import (
	"context"
	"net/http"

	"github.com/iho/gosettle/internal/domain"
)

func contextWithOperator(r *http.Request, op *domain.Operator) context.Context {
	return context.WithValue(r.Context(), OperatorContextKey, op)
}
