// Package logging builds the bridge's structured logger on log/slog.
//
// Every record carries service=graylogic-av and the build version. The
// handler is JSON or text; output goes to stdout, stderr, or a file that
// lumberjack rotates by size and age:
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json       # json, text
//	  output: file       # stdout, stderr, file
//	  file:
//	    path: ./logs/graylogic-av.log
//	    max_size: 10     # MB
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// Components take a narrow Debug/Info/Warn/Error interface which *Logger
// satisfies. Device credentials and the JWT secret are never logged.
package logging
