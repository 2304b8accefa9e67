// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "context"

// Run starts the server, blocks until ctx is done and then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}
