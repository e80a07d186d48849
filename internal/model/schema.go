package model

import _ "embed"

// SetupSQL 数据库初始化脚本，表缺失时展示给用户
//
//go:embed schema.sql
var SetupSQL string
