package core

const Version = "1.0.0"
