// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process provides external process execution and the exclusive run
lease.

# Overview

  - Runner: every exec.Command in drydock goes through this interface so
    callers can be tested with MockRunner.
  - RunLease: a flock(2) advisory lock that guarantees at most one mutating
    drydock run per state directory.

# Runner

	r := process.NewDefaultRunner(slog.Default())
	res, err := r.Run(ctx, process.Command{Name: "docker", Args: []string{"compose", "ps"}})
	var cmdErr *process.CommandError
	if errors.As(err, &cmdErr) {
	    fmt.Println(cmdErr.Stderr)
	}

# RunLease

	lease := process.NewRunLease(process.LeaseConfig{Dir: stateDir, Name: "deploy"})
	if err := lease.Acquire(); err != nil {
	    return err // errors.Is(err, process.ErrLeaseHeld)
	}
	defer lease.Release()

# Thread Safety

  - DefaultRunner is safe for concurrent use.
  - RunLease is NOT safe for concurrent use from multiple goroutines.
*/
package process
