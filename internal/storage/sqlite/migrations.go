package sqlite

// schema contains the database schema DDL.
const schema = `
-- Sensor registry; Sensor_ID is never reassigned
CREATE TABLE IF NOT EXISTS Sensors (
    Sensor_ID INTEGER PRIMARY KEY,
    Sensor_Global_Id TEXT NOT NULL UNIQUE,
    Label TEXT NOT NULL DEFAULT ''
);

-- Append-only event log; Val is decidegrees, NULL marks a disappearance
CREATE TABLE IF NOT EXISTS Sensor_logs (
    Seconds INTEGER NOT NULL,
    Centiseconds INTEGER NOT NULL CHECK (Centiseconds BETWEEN 0 AND 99),
    Sensor_ID INTEGER NOT NULL REFERENCES Sensors(Sensor_ID),
    Val INTEGER,
    PRIMARY KEY (Seconds, Centiseconds, Sensor_ID)
);
CREATE INDEX IF NOT EXISTS idx_sensor_logs_sensor_time ON Sensor_logs(Sensor_ID, Seconds, Centiseconds);
`

// requiredTables must exist before the store accepts writes.
var requiredTables = []string{"Sensors", "Sensor_logs"}
