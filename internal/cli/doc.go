// Package cli provides the interactive fleet registry command-line client.
//
// It wires configuration, the local cache, the HTTP gateway, and an
// interactive REPL that supports online/offline operation. Typical flow:
// load (or prompt for) the access token, start a background connectivity
// watcher, and execute user commands against one collection at a time.
//
// Key features:
//   - Login / Logout (bearer token, entered without echo)
//   - Switch between the viaturas, obms and aeronaves collections
//   - List / Add / Edit / Delete records (online with offline fallback)
//   - Sync with the server, with pending-mutation status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
