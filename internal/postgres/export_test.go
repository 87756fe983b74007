package postgres

const MigrationLockID = migrationLockID

var StoreError = storeError
