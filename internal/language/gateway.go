// Package language translates and extracts user text through a generative
// model. Results are best-effort: the model is asked for plain text and only
// ID types are checked against a closed set.
package language

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// IDTypeField is the question field whose answer must be one of the accepted
// ID type labels.
const IDTypeField = "id_type"

var (
	// ErrGatewayUnavailable wraps any failure of the model call. Callers get
	// the untouched input alongside it and may continue.
	ErrGatewayUnavailable = errors.New("language gateway unavailable")

	// ErrInvalidEnumeration means the extracted value is not one of the
	// accepted options. The value must not be stored.
	ErrInvalidEnumeration = errors.New("extracted value is not an accepted option")
)

// Generator runs a single prompt against a text model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service is the capability the intake flow depends on.
type Service interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
	Extract(ctx context.Context, text, field, language string) (string, error)
}

type Gateway struct {
	gen     Generator
	idTypes []string
	logger  *slog.Logger
}

func NewGateway(gen Generator, idTypes []string, logger *slog.Logger) *Gateway {
	return &Gateway{
		gen:     gen,
		idTypes: slices.Clone(idTypes),
		logger:  logger,
	}
}

// Translate returns text rendered in language to. Identical languages and
// empty text are returned unchanged without calling the model. On failure the
// original text is returned together with an error wrapping
// ErrGatewayUnavailable.
func (g *Gateway) Translate(ctx context.Context, text, from, to string) (string, error) {
	if from == to || text == "" {
		return text, nil
	}

	prompt := fmt.Sprintf("Translate this '%s' text to '%s' and provide only the translated text: '%s'", from, to, text)
	out, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		g.logger.Warn("translation failed", "from", from, "to", to, "err", err)
		return text, fmt.Errorf("%w: translate: %w", ErrGatewayUnavailable, err)
	}
	return strings.TrimSpace(out), nil
}

// Extract pulls the value for field out of a free-form answer given in
// language. If the model call fails the raw text is returned with an error
// wrapping ErrGatewayUnavailable.
func (g *Gateway) Extract(ctx context.Context, text, field, language string) (string, error) {
	var prompt string
	if field == IDTypeField {
		prompt = fmt.Sprintf("Identify the ID type from this '%s' input. Options are: %s. Provide only the selected ID type or 'Unknown' if unclear: '%s'",
			language, strings.Join(g.idTypes, ", "), text)
	} else {
		prompt = fmt.Sprintf("Extract the %s from this '%s' input and provide only the extracted value: '%s'", field, language, text)
	}

	out, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		g.logger.Warn("extraction failed", "field", field, "language", language, "err", err)
		return text, fmt.Errorf("%w: extract %s: %w", ErrGatewayUnavailable, field, err)
	}

	value := strings.TrimSpace(out)
	if field == IDTypeField && !slices.Contains(g.idTypes, value) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEnumeration, value)
	}
	return value, nil
}

// IDTypes returns the accepted ID type labels.
func (g *Gateway) IDTypes() []string {
	return slices.Clone(g.idTypes)
}
