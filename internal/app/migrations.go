package app

import "trafikskola.se/payments/internal/db/postgres"

// Migrations are embedded to keep deployment to one binary.
var Migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Core},
	{Version: 2, SQL: migration002Bookings},
	{Version: 3, SQL: migration003Credits},
	{Version: 4, SQL: migration004Invoices},
}

var migration001Core = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    first_name TEXT,
    last_name TEXT,
    role TEXT NOT NULL DEFAULT 'student',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS lesson_types (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS handledar_sessions (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    date DATE NOT NULL,
    start_time TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS packages (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    price NUMERIC(10,2) NOT NULL
);
CREATE TABLE IF NOT EXISTS package_contents (
    id UUID PRIMARY KEY,
    package_id UUID NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
    credit_type TEXT NOT NULL CHECK (credit_type IN ('lesson', 'handledar')),
    lesson_type_id UUID REFERENCES lesson_types(id),
    handledar_session_id UUID REFERENCES handledar_sessions(id),
    credits INTEGER NOT NULL DEFAULT 0,
    sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_package_contents_package ON package_contents(package_id);
`

var migration002Bookings = `
CREATE TABLE IF NOT EXISTS bookings (
    id UUID PRIMARY KEY,
    user_id UUID REFERENCES users(id),
    lesson_type_id UUID REFERENCES lesson_types(id),
    scheduled_date DATE NOT NULL,
    start_time TEXT NOT NULL,
    total_price NUMERIC(10,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    payment_status TEXT NOT NULL DEFAULT 'pending',
    payment_method TEXT,
    guest_name TEXT,
    guest_email TEXT,
    guest_phone TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id);

CREATE TABLE IF NOT EXISTS handledar_bookings (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES handledar_sessions(id),
    student_id UUID REFERENCES users(id),
    supervisor_name TEXT,
    supervisor_email TEXT,
    price NUMERIC(10,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    payment_status TEXT NOT NULL DEFAULT 'pending',
    payment_method TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS package_purchases (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    package_id UUID NOT NULL REFERENCES packages(id),
    price_paid NUMERIC(10,2) NOT NULL,
    payment_status TEXT NOT NULL DEFAULT 'pending',
    payment_method TEXT,
    purchase_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    paid_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_package_purchases_pending
    ON package_purchases(purchase_date) WHERE payment_status = 'pending';
`

var migration003Credits = `
CREATE TABLE IF NOT EXISTS user_credits (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    credit_type TEXT NOT NULL CHECK (credit_type IN ('lesson', 'handledar')),
    lesson_type_id UUID REFERENCES lesson_types(id),
    handledar_session_id UUID REFERENCES handledar_sessions(id),
    credits_remaining INTEGER NOT NULL DEFAULT 0 CHECK (credits_remaining >= 0),
    credits_total INTEGER NOT NULL DEFAULT 0,
    package_id UUID REFERENCES packages(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE NULLS NOT DISTINCT (user_id, credit_type, lesson_type_id, handledar_session_id)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    credit_type TEXT NOT NULL,
    lesson_type_id UUID,
    handledar_session_id UUID,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at DESC);
`

var migration004Invoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id UUID PRIMARY KEY,
    invoice_number TEXT UNIQUE NOT NULL,
    user_id UUID NOT NULL REFERENCES users(id),
    resource_kind TEXT NOT NULL,
    resource_id UUID NOT NULL,
    amount NUMERIC(10,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'paid', 'overdue', 'cancelled', 'error')),
    issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    due_date TIMESTAMPTZ NOT NULL,
    paid_at TIMESTAMPTZ,
    UNIQUE (resource_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_invoices_pending_due ON invoices(due_date) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS invoice_items (
    id UUID PRIMARY KEY,
    invoice_id UUID NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    quantity INTEGER NOT NULL DEFAULT 1,
    unit_price NUMERIC(10,2) NOT NULL,
    total_price NUMERIC(10,2) NOT NULL
);
`
