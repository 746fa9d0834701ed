// Package protocol defines the line protocol spoken with the remote
// interpreter.
//
// Requests and replies are single-line JSON objects. A request names its verb
// in "cmd" and carries the ticket assigned by the channel; the reply echoes the
// ticket and reports "result": "OK" or "E" (with "msg"). Commands and replies
// are closed sets of variants: one Go type per verb, and DecodeReply picks the
// reply type from the verb of the command that was sent.
//
//	line, _ := protocol.Encode(7, protocol.List{Path: "/data"})
//	// {"cmd":"ls","ticket":7,"p":"/data"}
//
//	res, _ := protocol.ParseResult(replyLine)
//	listing, err := protocol.As[protocol.Listing](protocol.VerbList, res)
package protocol
