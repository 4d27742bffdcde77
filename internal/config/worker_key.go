package config

type WorkerKeyStruct struct {
	PersistRevisionQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistRevisionQueue: "persist_revision_queue",
}
