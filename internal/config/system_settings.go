package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "FGRID_DATABASE_TYPE"
const DATABASE_URL = "FGRID_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "FGRID_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "FGRID_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "FGRID_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_REPAIR_INTERVAL = "FGRID_ENGINE_REPAIR_INTERVAL"
const ENGINE_REPAIR_AFTER_MINUTES = "FGRID_ENGINE_REPAIR_AFTER_MINUTES"
const ENGINE_ESCALATION_INTERVAL = "FGRID_ENGINE_ESCALATION_INTERVAL"
const ENGINE_SCHEDULER_INTERVAL = "FGRID_ENGINE_SCHEDULER_INTERVAL"
const ENGINE_BATCH_SIZE = "FGRID_ENGINE_BATCH_SIZE"       //number of due instances to pull from the database at a time
const ENGINE_EXECUTOR_SIZE = "FGRID_ENGINE_EXECUTOR_SIZE" //number of workers, ie the parallel nature of step execution
const ENGINE_EXECUTOR_NAME = "FGRID_ENGINE_EXECUTOR_NAME"
const STEP_DEFAULT_TIMEOUT = "FGRID_STEP_DEFAULT_TIMEOUT"
const STEP_DEFAULT_RETRY_DELAY = "FGRID_STEP_DEFAULT_RETRY_DELAY"
const WEB_SESSION_EXPIRY_HOURS = "FGRID_WEB_SESSION_EXPIRY_HOURS"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s"
	}
	if settingKey == ENGINE_REPAIR_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_REPAIR_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_ESCALATION_INTERVAL {
		return "30s"
	}
	if settingKey == ENGINE_SCHEDULER_INTERVAL {
		return "15s"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_SIZE {
		return "5"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == STEP_DEFAULT_TIMEOUT {
		return "30s"
	}
	if settingKey == STEP_DEFAULT_RETRY_DELAY {
		return "10s"
	}
	if settingKey == WEB_SESSION_EXPIRY_HOURS {
		return "1"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./flowgrid.db"
	}
	return ""
}
