// Package resolve models the scripting object graph of a running DaVinci
// Resolve instance.
//
// Every object the application hands out is an opaque Object whose methods are
// invoked by name. The typed wrappers in this package (App, ProjectManager,
// Project, Timeline, MediaPool, Folder, MediaPoolItem) only name the calls the
// rest of the module relies on; they hold no state of their own, so a wrapper
// is only as valid as the remote object behind it.
//
// All calls are fallible. A method that answers with "no object" (the scripting
// API's None) yields a nil wrapper and a nil error.
package resolve
