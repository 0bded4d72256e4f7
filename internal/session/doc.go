/*
Package session implements the per-connection state machine of a sampler.

# Overview

A Session owns one transport connection and coordinates:
  - connection establishment (open gate)
  - inbound messages tested against the response and disconnect patterns
  - the end of a round's wait (close gate)
  - a bounded backlog of received messages
  - client-initiated teardown

# States

	Created -> Connecting -> Open -> (Awaiting | Idle) -> Closed

Any state moves to Closed when the transport reports a close. A close with a
status other than 1000 is recorded as the session's error code.

# Matching

For every message exactly one branch runs, in this order:
  - response pattern absent or found: the wait ends, the connection stays open
  - disconnect pattern present and found: the wait ends and the session closes
    the connection with status 1000
  - otherwise only the diagnostic log is updated

# Rounds

A streaming session outlives a round. Reinitialize clears the error code,
the match outcome and the log, and arms a new close gate. The open gate
and the connected flag are left alone.

# Thread Safety

The handler methods run on the transport's read goroutine. Await*, Send,
Close and Report run on the controlling goroutine. OnMessage and Report share
one mutex so a report never sees a half-recorded message.
*/
package session
