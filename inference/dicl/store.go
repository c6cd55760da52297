// Package dicl implements the nearest-neighbor example store backing the
// DICL (dynamic in-context learning) variant: a pgvector-backed table of
// (input, output, embedding) rows per function/variant, queried by cosine
// distance. It is grounded on rakunlabs-at's pgx/v5 usage pattern (a
// *pgxpool.Pool held by a store type, parameterized SQL via pool.Query),
// since the teacher repo itself has no vector store — none of its Mongo or
// in-memory registries fit a similarity-search access pattern.
package dicl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tensorzero/inference-core/inference/ierrors"
)

// Example is one stored in-context learning demonstration.
type Example struct {
	Input  string
	Output string
}

// Store queries a pgvector-backed table of embedded examples.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by pool. The table is expected to already
// exist with the shape:
//
//	CREATE TABLE dicl_examples (
//	    function_name text NOT NULL,
//	    variant_name  text NOT NULL,
//	    input         text NOT NULL,
//	    output        text NOT NULL,
//	    embedding     vector NOT NULL
//	);
//
// Schema migration is out of scope, matching the rest of the engine's
// "configuration and storage provisioning happen externally" boundary.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NearestNeighbors returns the k examples for (functionName, variantName)
// whose embedding is closest to queryEmbedding by cosine distance.
func (s *Store) NearestNeighbors(ctx context.Context, functionName, variantName string, queryEmbedding []float32, k int) ([]Example, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT input, output FROM dicl_examples
		 WHERE function_name = $1 AND variant_name = $2
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		functionName, variantName, vectorLiteral(queryEmbedding), k,
	)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, "dicl: query nearest neighbors")
	}
	defer rows.Close()

	var examples []Example
	for rows.Next() {
		var e Example
		if err := rows.Scan(&e.Input, &e.Output); err != nil {
			return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, "dicl: scan example row")
		}
		examples = append(examples, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierrors.Wrap(ierrors.KindInferenceServer, err, "dicl: iterate example rows")
	}
	return examples, nil
}

// Insert adds a new labeled example with its embedding, used to grow the
// DICL example set from successfully judged inferences.
func (s *Store) Insert(ctx context.Context, functionName, variantName, input, output string, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dicl_examples (function_name, variant_name, input, output, embedding)
		 VALUES ($1, $2, $3, $4, $5)`,
		functionName, variantName, input, output, vectorLiteral(embedding),
	)
	if err != nil {
		return ierrors.Wrap(ierrors.KindInferenceServer, err, "dicl: insert example")
	}
	return nil
}

// vectorLiteral renders a []float32 in pgvector's text input format,
// "[v1,v2,...]", avoiding a dependency on the separate pgvector-go codec
// package for what is otherwise this store's only vector-specific need.
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}
