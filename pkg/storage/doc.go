/*
Package storage persists cadence model state in BoltDB.

Buckets:

	models       kind -> ModelRecord (Active and Previous versions)
	versions     kind -> nested bucket of every version, in insertion order
	experiences  buffer name -> JSON array of replay experiences

Values are JSON. Writes go through db.Update, reads through db.View, so a
snapshot taken while the engine runs is always consistent.
*/
package storage
