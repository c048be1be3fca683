// Package mongostore implements store.Store on MongoDB. Documents live
// in rotor_* collections; Migrate ensures the indexes the query paths
// rely on. Updates that the SQL backends guard with row locks run here
// as compare-and-swap retries on single documents, so the package needs
// no multi-document transactions and works on standalone servers.
// RequeueOrphans uses a multi-argument $ifNull, which requires MongoDB
// 5.0 or newer.
//
// The caller owns the client lifecycle — mongostore never disconnects
// it. Pass a database handle through the constructor:
//
//	import (
//	    "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//	    mongostore "github.com/xraph/rotor/store/mongo"
//	)
//
//	client, err := mongo.Connect(options.Client().ApplyURI(uri))
//	store := mongostore.New(client.Database("rotor"))
//	store.Migrate(ctx)
package mongostore
