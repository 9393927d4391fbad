// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"fmt"

	"github.com/telekom/wren/internal/logger"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// wrapError wraps an error with a message and logs it.
// It also records the error in the current OpenTelemetry span.
// The args are structured log attributes, not format arguments.
func wrapError(ctx context.Context, err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	span := trace.SpanFromContext(ctx)
	caser := cases.Title(language.English)

	log.ErrorContext(ctx, caser.String(msg), append([]any{"error", err}, args...)...)
	span.SetStatus(codes.Error, msg)
	span.RecordError(err)
	return fmt.Errorf("%s: %w", msg, err)
}
