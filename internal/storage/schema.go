package storage

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	open_time INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (symbol, interval, open_time)
);

CREATE TABLE IF NOT EXISTS signals (
	symbol TEXT NOT NULL,
	time DATETIME NOT NULL,
	signal TEXT NOT NULL,
	price REAL NOT NULL,
	rsi REAL,
	macd REAL,
	macd_signal REAL,
	histogram REAL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	amount REAL NOT NULL,
	pnl REAL NOT NULL,
	reason TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	start_time DATETIME,
	end_time DATETIME,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	net_profit REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	profit_factor REAL,
	start_balance REAL NOT NULL,
	end_balance REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_rows (
	run_id TEXT NOT NULL REFERENCES backtest_runs(run_id),
	seq INTEGER NOT NULL,
	time DATETIME NOT NULL,
	signal TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	quantity REAL NOT NULL,
	pnl REAL NOT NULL,
	balance REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, time);
`
