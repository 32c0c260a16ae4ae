// Package hub implements the server end of the live channel.
//
// A client must send {"type":"auth","auth_token":T} before anything else.
// After "auth success" it may subscribe to pools and issue requests;
// requests carrying a "request id" always get a reply echoing that id.
package hub
