package main

// Version is the welle.io-go daemon version
const Version = "1.2.0"
