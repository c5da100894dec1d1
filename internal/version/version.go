package version

// Current is the released version of mailprospect, without a "v" prefix.
var Current = "0.3.0"
