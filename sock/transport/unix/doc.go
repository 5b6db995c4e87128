// Package unix implements the unix domain socket transport of dNet. It is the local,
// single host variant of the TCP transport and runs on the same engine (see the base
// package); only listening and dialing differ.
//
// The endpoint is the path of the socket file. An existing file at that path is removed
// before listening and the file is removed again when the server stops.
package unix
