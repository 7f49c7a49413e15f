package shmduplex

// Version is the library version.
const Version = "0.1.0"
