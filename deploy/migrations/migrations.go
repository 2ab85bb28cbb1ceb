package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，按文件名顺序执行。
//
//go:embed *.sql
var Files embed.FS
