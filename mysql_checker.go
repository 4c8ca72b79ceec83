package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Privileges a replication client needs before StartSync can succeed.
var requiredPrivileges = []string{
	"REPLICATION SLAVE",
	"REPLICATION CLIENT",
	"SELECT",
}

// runPreflight validates the account and server configuration against the
// requirements of row-based binlog streaming. Run it before the source
// starts; a failure here would otherwise surface as an opaque stream error.
func runPreflight(db *sql.DB, logger *logrus.Logger) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	logger.Info("Successfully connected to MySQL server")

	grants, err := serverGrants(db)
	if err != nil {
		return err
	}
	var missing []string
	for _, priv := range requiredPrivileges {
		if !strings.Contains(strings.ToUpper(grants), priv) &&
			!strings.Contains(strings.ToUpper(grants), "ALL PRIVILEGES") {
			missing = append(missing, priv)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s",
			strings.Join(missing, ", "), grants)
	}
	logger.Info("All required permissions verified")

	logBin, err := serverVariable(db, "log_bin")
	if err != nil {
		logger.Warnf("Could not verify binlog status: %v", err)
	} else if logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled, current value: %s", logBin)
	} else {
		logger.Info("Binary logging is enabled")
	}

	format, err := serverVariable(db, "binlog_format")
	if err != nil {
		logger.Warnf("Could not verify binlog format: %v", err)
	} else if format != "ROW" {
		logger.Warnf("binlog_format is %q, but ROW format is required for row-level change events", format)
	} else {
		logger.Info("binlog_format is set to ROW")
	}

	return nil
}

// serverGrants collects every SHOW GRANTS row into one string.
func serverGrants(db *sql.DB) (string, error) {
	rows, err := db.Query("SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// Older servers only support the bare form.
		rows, err = db.Query("SHOW GRANTS")
		if err != nil {
			return "", fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var all strings.Builder
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return "", fmt.Errorf("failed to scan grant: %w", err)
		}
		if all.Len() > 0 {
			all.WriteString("; ")
		}
		all.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating grants: %w", err)
	}
	return all.String(), nil
}

func serverVariable(db *sql.DB, name string) (string, error) {
	var varName, value string
	err := db.QueryRow("SHOW VARIABLES LIKE '" + name + "'").Scan(&varName, &value)
	if err != nil {
		// SELECT @@name works where SHOW VARIABLES is restricted.
		if err := db.QueryRow("SELECT @@" + name).Scan(&value); err != nil {
			return "", err
		}
	}
	return value, nil
}
