package main

import "fmt"

// connection holds the connection flags common to every subcommand
// (spec.md §6: "connection parameters (--socket or --host/--port, --user,
// --password)"), embedded via kong's anonymous-struct promotion.
type connection struct {
	Socket   string `help:"Unix socket path. Mutually exclusive with --host." optional:""`
	Host     string `help:"TCP host." default:"127.0.0.1"`
	Port     int    `help:"TCP port." default:"3306"`
	User     string `help:"MySQL user." required:""`
	Password string `help:"MySQL password." optional:""`
	Database string `help:"Schema containing the target table." required:""`
}

// dsn renders a go-sql-driver/mysql DSN from the connection flags,
// preferring the Unix socket transport when given.
func (c connection) dsn() string {
	auth := c.User
	if c.Password != "" {
		auth += ":" + c.Password
	}
	if c.Socket != "" {
		return fmt.Sprintf("%s@unix(%s)/%s?parseTime=true&multiStatements=true", auth, c.Socket, c.Database)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", auth, c.Host, c.Port, c.Database)
}
