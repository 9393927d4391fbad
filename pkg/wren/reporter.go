// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package wren

import (
	"fmt"
	"io"

	"github.com/telekom/wren/internal/traceroute"
)

// reporter writes one line per completed round to its output stream,
// as the rounds complete.
type reporter struct {
	out io.Writer
}

func (r *reporter) Report(res traceroute.RoundResult) {
	_, _ = fmt.Fprintln(r.out, res.String())
}
