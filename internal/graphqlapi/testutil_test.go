package graphqlapi

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql"
)

func executeMutation(t *testing.T, schema graphql.Schema, query string, vars map[string]any) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
}
