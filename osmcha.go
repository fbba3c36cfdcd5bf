package osmcha

var Version = "0.1.0"
